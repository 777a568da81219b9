/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package main

import "github.com/jcheng510/coingame-sub001/cmd"

func main() {
	cmd.Execute()
}
