// Command quill classifies natural-language requests and runs them as
// tracked, pausable content tasks.
package main

func main() {
	Execute()
}
