package main

import "BratGen/cmd"

func main() {
	cmd.Execute()
}
