package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"pgmerge/core/convert"
	"pgmerge/core/reconcile"
	"pgmerge/core/record"

	"github.com/spf13/viper"
)

// JobFile describes a merge run: which tables take part, how each input is
// merged and which columns are asserted unique.
//
//	include: [customers, orders]
//	asserted_unique:
//	  - table: legacy_accounts
//	    columns: [account_no]
//	jobs:
//	  - table: customers
//	    file: customers.csv
//	    rows: new_or_update
//	    columns: modified
//	    transforms:
//	      - kind: concat
//	        sources: [first_name, last_name]
//	        targets: [name]
//	        separator: " "
type JobFile struct {
	// Include restricts the run to these tables; empty means all.
	Include []string `mapstructure:"include"`
	// Exclude removes tables from the run.
	Exclude []string `mapstructure:"exclude"`
	// AssertedUnique lists caller-asserted identity columns per table.
	AssertedUnique []AssertedUnique `mapstructure:"asserted_unique"`
	// Jobs lists per-table input settings. Tables with an input file but no
	// job entry use the defaults (new_or_update, partial).
	Jobs []JobConfig `mapstructure:"jobs"`
	// Export lists column subsets for the export command.
	Export []ExportConfig `mapstructure:"export"`
}

// AssertedUnique is one asserted-unique column list. Table names are kept in
// list entries rather than map keys because viper lower-cases map keys.
type AssertedUnique struct {
	Table   string   `mapstructure:"table"`
	Columns []string `mapstructure:"columns"`
}

// ExportConfig selects the exported columns of a table.
type ExportConfig struct {
	Table   string   `mapstructure:"table"`
	Columns []string `mapstructure:"columns"`
}

// JobConfig is the declarative form of a reconcile.Job.
type JobConfig struct {
	// Table is the target table (the default table for mixed inputs).
	Table string `mapstructure:"table"`
	// File is the input file or object name; defaults to <table>.csv.
	File string `mapstructure:"file"`
	// Rows is new_or_update, exact or removal.
	Rows string `mapstructure:"rows"`
	// Columns is partial, exact, additional, modified or mixed.
	Columns string `mapstructure:"columns"`
	// Transforms run in order for modified column semantics.
	Transforms []convert.TransformSpec `mapstructure:"transforms"`
}

// LoadJobFile reads a YAML job file. A missing optional file yields an empty
// job file.
func LoadJobFile(path string, optional bool) (*JobFile, error) {
	if _, err := os.Stat(path); err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return &JobFile{}, nil
		}
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read job file %s: %w", path, err)
	}

	var jf JobFile
	if err := v.Unmarshal(&jf); err != nil {
		return nil, fmt.Errorf("failed to parse job file %s: %w", path, err)
	}
	if err := jf.validate(); err != nil {
		return nil, fmt.Errorf("invalid job file %s: %w", path, err)
	}
	return &jf, nil
}

func (f *JobFile) validate() error {
	seen := make(map[string]bool, len(f.Jobs))
	for i, j := range f.Jobs {
		if j.Table == "" {
			return fmt.Errorf("job %d has no table", i+1)
		}
		if seen[j.Table] {
			return fmt.Errorf("table %s has more than one job", j.Table)
		}
		seen[j.Table] = true
		if _, err := reconcile.ParseRowSemantics(j.Rows); err != nil {
			return fmt.Errorf("job %s: %w", j.Table, err)
		}
		if _, err := reconcile.ParseColumnSemantics(j.Columns); err != nil {
			return fmt.Errorf("job %s: %w", j.Table, err)
		}
	}
	for _, a := range f.AssertedUnique {
		if a.Table == "" || len(a.Columns) == 0 {
			return fmt.Errorf("asserted_unique entries need a table and columns")
		}
	}
	return nil
}

// Asserted returns the asserted-unique column lists keyed by table.
func (f *JobFile) Asserted() map[string][][]string {
	if len(f.AssertedUnique) == 0 {
		return nil
	}
	out := make(map[string][][]string)
	for _, a := range f.AssertedUnique {
		out[a.Table] = append(out[a.Table], a.Columns)
	}
	return out
}

// ExportColumns returns the exported column subsets keyed by table.
func (f *JobFile) ExportColumns() map[string][]string {
	out := make(map[string][]string, len(f.Export))
	for _, e := range f.Export {
		out[e.Table] = e.Columns
	}
	return out
}

// Job returns the job configuration of a table.
func (f *JobFile) Job(table string) (JobConfig, bool) {
	for _, j := range f.Jobs {
		if j.Table == table {
			return j, true
		}
	}
	return JobConfig{}, false
}

// FileName returns the input name of the job.
func (j JobConfig) FileName() string {
	if j.File != "" {
		return j.File
	}
	return j.Table + ".csv"
}

// Build turns the configuration into a job reading from src.
func (j JobConfig) Build(src record.Source) (reconcile.Job, error) {
	rows, err := reconcile.ParseRowSemantics(j.Rows)
	if err != nil {
		return reconcile.Job{}, err
	}
	columns, err := reconcile.ParseColumnSemantics(j.Columns)
	if err != nil {
		return reconcile.Job{}, err
	}

	job := reconcile.Job{Table: j.Table, Source: src, Rows: rows, Columns: columns}
	for _, spec := range j.Transforms {
		t, err := spec.Build()
		if err != nil {
			return reconcile.Job{}, err
		}
		job.Transforms = append(job.Transforms, t)
	}
	return job, nil
}
