// Command gcctl drives workloads against the managed heap and reports what
// the collector did.
package main

func main() {
	execute()
}
