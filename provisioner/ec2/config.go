package ec2

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go/aws/credentials"
)

type Config struct {
	Logger *slog.Logger

	Region string
	// Profile of the shared credentials file, ignored when KeyFile is set.
	Profile string
	// KeyFile is a JSON file holding AWSAccessKeyId and AWSSecretKey.
	KeyFile string

	ImageID        string
	KeyName        string
	SubnetID       string
	SecurityGroups []string
	// SpotMaxBid requests spot instances at this maximum hourly price when set.
	SpotMaxBid string
}

type keyFile struct {
	AccessKeyID string `json:"AWSAccessKeyId"`
	SecretKey   string `json:"AWSSecretKey"`
}

func loadKeyFile(path string) (*credentials.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var keys keyFile
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse key file '%s': %w", path, err)
	}
	if keys.AccessKeyID == "" || keys.SecretKey == "" {
		return nil, fmt.Errorf("key file '%s' must define AWSAccessKeyId and AWSSecretKey", path)
	}

	return credentials.NewStaticCredentials(keys.AccessKeyID, keys.SecretKey, ""), nil
}
