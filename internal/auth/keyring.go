package auth

import "github.com/zalando/go-keyring"

func saveToKeyring(service, accountID, data string) error {
	return keyring.Set(service, accountID, data)
}

func loadFromKeyring(service, accountID string) (string, error) {
	return keyring.Get(service, accountID)
}

func deleteFromKeyring(service, accountID string) error {
	return keyring.Delete(service, accountID)
}

// checkKeyringAvailable probes the host keyring with a throwaway entry.
func checkKeyringAvailable() bool {
	const probeKey = "davsync-probe"
	if err := keyring.Set(serviceName, probeKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, probeKey)
	return true
}
