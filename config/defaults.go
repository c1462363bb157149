package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/ragos",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Server: ServerConfig{
			BaseURL: "http://localhost:8004",
		},
		Chat: ChatConfig{
			UseWebSearch: true,
		},
		Encryption: EncryptionConfig{
			Method: string(EncryptionNone),
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# RAGOS System Configuration
# Location: ~/.config/ragos/settings.toml
# This file uses TOML format: https://toml.io

# Directory where the conversation cache, access token and user config are stored
data_directory = "~/.local/share/ragos"
`
}

func GenerateUserConfigTemplate() string {
	return `# RAGOS User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[server]
# RAG.OS service base URL
base_url = "http://localhost:8004"

[chat]
# Allow the assistant to use web search by default
use_web_search = true

# Restrict retrieval to specific library documents (empty = all documents)
# selected_document_ids = [1, 3]

[encryption]
# How the access token is stored at rest:
#   "none"    - plaintext file with 0600 permissions
#   "ssh_key" - AES-256-GCM, key derived from the SSH private key below
method = "none"

# Private key used when method = "ssh_key". Encrypted keys need the
# passphrase in RAGOS_SSH_KEY_PASSPHRASE.
# ssh_key_path = "~/.ssh/id_ed25519"
`
}
