package store

import "os"

func writeFileImpl(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
