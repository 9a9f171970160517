// Command teamsync follows a workspace from the terminal: it keeps a
// synchronized session open, sends messages and manages the stored session.
package main

func main() {
	Execute()
}
