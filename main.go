package main

import "predict-rpc/cmd"

func main() {
	cmd.Execute()
}
