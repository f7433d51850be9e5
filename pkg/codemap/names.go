package codemap

import "fmt"

// keyName is the default name for a key code absent from keyToName.
func keyName(key int) string {
	return fmt.Sprintf("Key%d", key)
}
