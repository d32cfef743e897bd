// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/blinklabs-io/vouch/internal/secrets"
	"github.com/spf13/cobra"
)

func secretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage SOPS-encrypted credential files",
	}
	cmd.AddCommand(secretsEncryptCommand())
	cmd.AddCommand(secretsDecryptCommand())
	return cmd
}

func secretsEncryptCommand() *cobra.Command {
	var outputFile string
	cmd := &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a credential file for the discordTokenFile/membershipApiKeyFile config options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading %s: %w", args[0], err)
			}
			encrypted, err := secrets.Encrypt(data)
			if err != nil {
				return fmt.Errorf("error encrypting %s: %w", args[0], err)
			}
			return writeSecretOutput(outputFile, encrypted)
		},
	}
	cmd.Flags().
		StringVarP(&outputFile, "output", "o", "", "write result to a file instead of stdout")
	return cmd
}

func secretsDecryptCommand() *cobra.Command {
	var outputFile string
	cmd := &cobra.Command{
		Use:   "decrypt <file>",
		Short: "Decrypt a SOPS-encrypted credential file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading %s: %w", args[0], err)
			}
			decrypted, err := secrets.Decrypt(data)
			if err != nil {
				return fmt.Errorf("error decrypting %s: %w", args[0], err)
			}
			return writeSecretOutput(outputFile, decrypted)
		},
	}
	cmd.Flags().
		StringVarP(&outputFile, "output", "o", "", "write result to a file instead of stdout")
	return cmd
}

func writeSecretOutput(outputFile string, data []byte) error {
	if outputFile == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputFile, data, 0o600); err != nil {
		return fmt.Errorf("error writing %s: %w", outputFile, err)
	}
	return nil
}
