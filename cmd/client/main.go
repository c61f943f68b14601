/*
Package main is the entry point for the sigchat terminal client.
*/
package main

import "sigchat/cmd/client/cmd"

func main() {
	cmd.Execute()
}
