package main

import "salesetl/cmd"

func main() {
	cmd.Execute()
}
