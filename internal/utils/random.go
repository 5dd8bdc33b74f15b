package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	letterBytes  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numberBytes  = "0123456789"
	alphanumeric = letterBytes + numberBytes
)

func GenerateRandomString(length int) string {
	return generateRandom(length, alphanumeric)
}

func GenerateRandomNumericString(length int) string {
	return generateRandom(length, numberBytes)
}

func generateRandom(length int, charset string) string {
	result := make([]byte, length)
	charsetLength := big.NewInt(int64(len(charset)))

	for i := range result {
		num, _ := rand.Int(rand.Reader, charsetLength)
		result[i] = charset[num.Int64()]
	}

	return string(result)
}

func SecureRandomInt(max int) int {
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max)))
	return int(n.Int64())
}

// GenerateSOSCode builds the globally unique human-readable incident code,
// pattern SOS-<epoch>-<shard>. The epoch is nanosecond resolution and the
// shard segment carries a random tail so concurrent triggers on one shard
// never produce the same code.
func GenerateSOSCode(shard string) string {
	if shard == "" {
		shard = GenerateRandomNumericString(4)
	}
	return fmt.Sprintf("SOS-%d-%s%s", time.Now().UnixNano(), shard, GenerateRandomNumericString(4))
}

// GenerateResponseCode builds the response record code, pattern RSP-<epoch>-<rand>.
func GenerateResponseCode() string {
	return fmt.Sprintf("RSP-%d-%s", time.Now().Unix(), GenerateRandomNumericString(4))
}
