package capability_test

import (
	"fmt"

	"github.com/jllopis/camel/pkg/capability"
)

func ExampleMerge() {
	query := capability.User()
	page := capability.NewValue("<html>", capability.ToolOutput("web_fetch")).Cap
	secret := capability.New(true, capability.Only("alice", "bob"), capability.ToolSource("read"))

	merged := capability.Merge(query, page, secret)
	fmt.Println(merged)
	fmt.Println(capability.AllowsReader(merged, "alice"), capability.AllowsReader(merged, "eve"))
	// Output:
	// untrusted readers={alice,bob} sources=[tool:read,tool:web_fetch,user]
	// true false
}
