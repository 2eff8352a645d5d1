package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `# archstrap configuration
user:
  name: dev
  # Leave the password empty and set ARCHSTRAP_PASSWORD instead.
  password: ""
  shell: /usr/bin/zsh

network:
  # proxy: http://proxy.example.com:3128
  regional_mirrors: true
  # mirrors:
  #   - https://mirror.example.org/archlinux

packages:
  base:
    - base-devel
    - git
    - wget
    - curl
    - zsh
    - openssh
  optional:
    - vim
    - htop
    - tmux

wsl:
  systemd: true

engine:
  max_parallel: 4
  retry_attempts: 3
  retry_base_delay: 2s
  retry_max_delay: 1m

logging:
  level: info
  format: console
  # file_path: /var/log/archstrap.log

metrics:
  enabled: false
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "archstrap.yaml"
			if len(args) == 1 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
