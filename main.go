package main

import "mvgen/cmd"

func main() {
	cmd.Execute()
}
