package config

import "github.com/go-ini/ini"

// clientParams abstracts the [client] section of an option file. Getters
// provide defaults when the receiver is nil or the key is not defined.
type clientParams struct {
	host, user, socket, tlsMode, tlsCA string
	password                           *string
	port                               int
}

func (c *clientParams) GetHost() string {
	if c == nil || c.host == "" {
		return defaultHost
	}
	return c.host
}

func (c *clientParams) GetPort() int {
	if c == nil || c.port == 0 {
		return defaultPort
	}
	return c.port
}

func (c *clientParams) GetPassword() string {
	if c == nil || c.password == nil {
		return ""
	}
	return *c.password
}

func (c *clientParams) GetTLSMode() string {
	if c == nil || c.tlsMode == "" {
		return defaultTLSMode
	}
	return c.tlsMode
}

// loadClientParams loads the [client] section of a MySQL option file.
// Option files may contain !include directives and valueless keys such as
// skip-ssl, which are skipped.
func loadClientParams(path string) (*clientParams, error) {
	cnf, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:        true,
		SkipUnrecognizableLines: true,
		IgnoreInlineComment:     true,
	}, path)
	if err != nil {
		return nil, err
	}
	params := &clientParams{}
	if !cnf.HasSection("client") {
		return params, nil
	}
	section := cnf.Section("client")
	params.host = section.Key("host").String()
	params.user = section.Key("user").String()
	params.socket = section.Key("socket").String()
	params.port = section.Key("port").MustInt()
	// MySQL's own client spells these ssl-mode and ssl-ca.
	params.tlsMode = firstNonEmpty(section.Key("tls-mode").String(), section.Key("ssl-mode").String())
	params.tlsCA = firstNonEmpty(section.Key("tls-ca").String(), section.Key("ssl-ca").String())
	if section.HasKey("password") {
		pw := section.Key("password").String()
		params.password = &pw
	}
	return params, nil
}
