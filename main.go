package main

import "blog-admin/cmd"

func main() {
	cmd.Execute()
}
