package main

import "pgmerge/cmd"

func main() {
	cmd.Execute()
}
