// Command igcrawler crawls Instagram's suggested-profile graph with a
// bounded number of browser tabs.
package main

func main() {
	Execute()
}
