package main

import "scanci/cmd"

func main() {
	cmd.Execute()
}
