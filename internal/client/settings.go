package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/liko-dev/liko/internal/config"
	configstore "github.com/liko-dev/liko/internal/config/store"
)

// apiTokenKey is the global secret the daemon stores its control token under.
const apiTokenKey = "api_token"

// defaultListenAddr mirrors the daemon's default control binding.
const defaultListenAddr = "127.0.0.1:7641"

// New initialises a client bound to the default liko instance.
func New() (*Client, error) {
	return NewForInstance(config.DefaultInstance)
}

// NewForInstance initialises a client for a named instance. The environment
// variables LIKO_BASE_URL and LIKO_API_TOKEN override the stored transport
// settings.
func NewForInstance(instanceName string) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("LIKO_BASE_URL"))
	token := strings.TrimSpace(os.Getenv("LIKO_API_TOKEN"))

	if baseURL != "" && token != "" {
		return NewInitialisedClient(baseURL, token), nil
	}

	storedAddr, storedToken, err := loadTransportSettings(instanceName)
	if err != nil {
		return nil, err
	}

	if baseURL == "" {
		baseURL = "http://" + storedAddr
	}
	if token == "" {
		token = storedToken
	}

	return NewInitialisedClient(baseURL, token), nil
}

// loadTransportSettings reads the control binding and API token from the
// instance's config store.
func loadTransportSettings(instanceName string) (addr, token string, err error) {
	st, err := configstore.Open(configstore.Options{
		InstanceName: instanceName,
		ReadOnly:     true,
	})
	if err != nil {
		return "", "", fmt.Errorf("client: open config store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, err = st.Setting(ctx, "", configstore.SettingListenAddr, defaultListenAddr)
	if err != nil {
		return "", "", fmt.Errorf("client: load listen address: %w", err)
	}

	token, err = st.Secret(ctx, "", apiTokenKey)
	if err != nil {
		if configstore.IsNotFound(err) {
			return "", "", errors.New("client: API token not provisioned; is likod running?")
		}
		return "", "", fmt.Errorf("client: load api token: %w", err)
	}

	return addr, token, nil
}
