package main

import "github.com/snowgoose/snowgoose/cmd"

func main() {
	cmd.Execute()
}
