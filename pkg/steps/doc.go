// Package steps defines the concrete provisioning steps for an Arch Linux
// WSL host: mirror setup, system update, package installation, user
// creation, WSL configuration, the zsh environment, the yay AUR helper,
// Miniconda and GitHub access. Every step carries an idempotency probe so
// rerunning a finished setup is a sequence of skips, and all external
// commands go through the runner so tests never touch the host.
package steps
