package sshclient

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/tastythames/sshscan/internal/scheduler"
)

// authMethods offers the private key first, then the password both as plain
// password and keyboard-interactive answer.
func authMethods(cred scheduler.Credential) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if len(cred.PrivateKey) > 0 {
		signer, err := parsePrivateKey(cred.PrivateKey, cred.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cred.Password != "" {
		password := cred.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_user, _instruction string, questions []string, _echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, errors.New("no password or private key")
	}
	return methods, nil
}

func parsePrivateKey(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
		return signer, errors.Wrap(err, "parse private key")
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	return signer, errors.Wrap(err, "parse private key")
}
