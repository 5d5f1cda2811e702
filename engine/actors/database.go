package actors

import (
	"bytes"
	"io"
	"os"

	"trustgraph/engine/library"
)

// Open returns the named flat file for component, or ok=false if it has
// never been written.
func Open(component, name string) (*os.File, bool) {
	if err := os.MkdirAll(directory(component), 0777); err != nil {
		library.Log(err.Error(), 0)
	}
	if _, err := os.Stat(directory(component) + name + ".dat"); os.IsNotExist(err) {
		return nil, false
	}
	file, err := os.Open(directory(component) + name + ".dat")
	if err != nil {
		library.Log(err.Error(), 0)
		return nil, false
	}
	return file, true
}

// Write atomically-enough (remove then create) persists b under
// component/name.dat, the flat-file snapshot mechanism backing the
// store's single on-disk database file.
func Write(component, name string, b []byte) {
	os.Remove(directory(component) + name + ".dat")
	if err := os.MkdirAll(directory(component), 0777); err != nil {
		library.Log(err.Error(), 0)
	}
	f, err := os.Create(directory(component) + name + ".dat")
	if err != nil {
		library.Log(err.Error(), 0)
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, bytes.NewReader(b)); err != nil {
		library.Log(err.Error(), 0)
	}
}

func directory(component string) string {
	return MakeOrGetConfig().GetString("rootDir") + "data/" + component + "/"
}
