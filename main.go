package main

import "github.com/vsaizz/dash-gen/cmd"

func main() {
	cmd.Execute()
}
