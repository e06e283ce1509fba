package main

import "github.com/wangyi68/Animal-Music-Client-TS-sub000/cmd"

func main() {
	cmd.Execute()
}
