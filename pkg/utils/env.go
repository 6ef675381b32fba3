package utils

import "os"

func ParseWithFallback(envName string, fallback string) string {
	if result := os.Getenv(envName); result != "" {
		return result
	}

	return fallback
}
