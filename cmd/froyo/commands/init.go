package commands

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/froyocore/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"
)

func newInitCommand() *cobra.Command {
	var (
		solo bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize OpenFroyo workspace",
		Long: `Initialize a new OpenFroyo workspace with configuration, keys, and data directories.

The --solo flag initializes a standalone workspace using SQLite and local file storage,
suitable for single-machine or development use.`,
		Example: `  # Initialize a standalone workspace
  froyo init --solo

  # Initialize next to a specific project declaration
  froyo init --solo --config ./infra/froyo.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Bool("solo", solo).
				Str("config", configPath).
				Msg("Initializing workspace")

			ctx := context.Background()

			// The workspace lives under .froyo next to the project
			// declaration: run history, source checkouts, and keys.
			dataDir := ".froyo"
			if configPath != "" {
				dataDir = filepath.Join(filepath.Dir(configPath), ".froyo")
			}

			fmt.Printf("Initializing workspace in %s\n\n", dataDir)

			dirs := []string{
				dataDir,
				filepath.Join(dataDir, "sources"),
				filepath.Join(dataDir, "keys"),
			}

			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			// Run-history database, the same file "froyo apply --record-db"
			// writes to.
			dbPath := filepath.Join(dataDir, "froyo.db")
			store, err := stores.NewSQLiteStore(stores.Config{
				Path: dbPath,
			})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			fmt.Printf("✓ Initialized SQLite database: %s\n", dbPath)

			// Starter project declaration, skipped when one already exists.
			defaultProject := `kind: Project
name: %s
defaultEnvironment: dev
environments:
  - name: dev
`
			projectName := filepath.Base(mustAbs("."))
			configContent := fmt.Sprintf(defaultProject, projectName)

			if configPath == "" {
				configPath = "./froyo.yaml"
			}

			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
					return fmt.Errorf("failed to write project declaration: %w", err)
				}
				fmt.Printf("✓ Created project declaration: %s\n", configPath)
			} else {
				fmt.Printf("✓ Project declaration already exists: %s\n", configPath)
			}

			// Keypair for ssh:// remote sources. The source fetcher uses it
			// when FROYO_SSH_KEY names this path; otherwise it reads
			// ~/.ssh/id_ed25519.
			keyPath := filepath.Join(dataDir, "keys", "default-ed25519")
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return fmt.Errorf("failed to generate keypair: %w", err)
				}

				// Marshal private key
				privKeyBytes, err := sshpkg.MarshalPrivateKey(privKey, "")
				if err != nil {
					return fmt.Errorf("failed to marshal private key: %w", err)
				}

				privPEM := pem.EncodeToMemory(privKeyBytes)
				if err := os.WriteFile(keyPath, privPEM, 0600); err != nil {
					return fmt.Errorf("failed to write private key: %w", err)
				}

				// Marshal public key
				sshPubKey, err := sshpkg.NewPublicKey(pubKey)
				if err != nil {
					return fmt.Errorf("failed to create SSH public key: %w", err)
				}

				pubKeyStr := sshpkg.MarshalAuthorizedKey(sshPubKey)
				if err := os.WriteFile(keyPath+".pub", pubKeyStr, 0644); err != nil {
					return fmt.Errorf("failed to write public key: %w", err)
				}

				fmt.Printf("✓ Generated SSH keypair: %s\n", keyPath)
			} else {
				fmt.Printf("✓ SSH keypair already exists: %s\n", keyPath)
			}

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Validate your project declarations:\n")
			fmt.Printf("     froyo validate\n\n")
			fmt.Printf("  2. Plan the module/service/task graph:\n")
			fmt.Printf("     froyo plan\n\n")
			fmt.Printf("  3. Build with run history recorded:\n")
			fmt.Printf("     froyo apply --record-db %s\n\n", dbPath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&solo, "solo", false, "initialize standalone workspace (SQLite + local storage)")
	cmd.MarkFlagRequired("solo")

	return cmd
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
