package core

type Config struct {
	// StateSecret signs the OAuth state tokens issued by the handshake
	StateSecret string `yaml:"state_secret"`
	// StateTokenDuration is the state token lifetime in seconds
	StateTokenDuration int `yaml:"state_token_duration"`

	// EncryptionKey encrypts provider refresh tokens at rest (32 bytes)
	EncryptionKey string `yaml:"encryption_key"`

	// FrontendURL is where the OAuth callback redirects the browser
	FrontendURL string `yaml:"frontend_url"`
}
