package library

import "os"

// Touch creates path if it does not already exist, leaving existing
// contents untouched.
func Touch(path string) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		Log(err.Error(), 0)
		return
	}
	_ = f.Close()
}
