// Command weave coordinates role-based coding workers over git history lines.
package main

func main() {
	Execute()
}
