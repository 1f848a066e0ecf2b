// Package main is the entry point for the fingate market-data gateway.
package main

func main() {
	Execute()
}
