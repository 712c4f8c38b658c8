package main

import "github.com/nextlevelbuilder/hive/cmd"

func main() {
	cmd.Execute()
}
