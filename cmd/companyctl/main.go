package main

import "github.com/JonMunkholm/companyimport/internal/cli"

func main() {
	cli.Execute()
}
