package services

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/storepilot/backend/internal/config"
)

const ldapDialTimeout = 10 * time.Second

// LDAPService authenticates against the directory described by the file
// config, with database overrides applied on each call.
type LDAPService struct {
	base     config.LDAPConfig
	settings *SystemConfigService
}

func NewLDAPService(base config.LDAPConfig, settings *SystemConfigService) *LDAPService {
	return &LDAPService{base: base, settings: settings}
}

func (s *LDAPService) current() config.LDAPConfig {
	if s.settings == nil {
		return s.base
	}
	return s.settings.LDAPSettings(s.base)
}

func (s *LDAPService) IsEnabled() bool {
	return s.current().Enabled
}

type LDAPUser struct {
	DN       string
	Username string
	Email    string
	Nickname string
}

// Authenticate binds as the user found by UserFilter and returns their attributes.
func (s *LDAPService) Authenticate(username, password string) (*LDAPUser, error) {
	cfg := s.current()
	if !cfg.Enabled {
		return nil, fmt.Errorf("LDAP is not enabled")
	}
	if password == "" {
		// An empty password would be an unauthenticated bind, which many servers accept.
		return nil, fmt.Errorf("invalid credentials")
	}

	conn, err := dialLDAP(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP server: %w", err)
	}
	defer conn.Close()

	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			return nil, fmt.Errorf("failed to bind with service account: %w", err)
		}
	}

	searchRequest := ldap.NewSearchRequest(
		cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, int(ldapDialTimeout.Seconds()), false,
		fmt.Sprintf(cfg.UserFilter, ldap.EscapeFilter(username)),
		[]string{"dn", "cn", "mail", "uid", "sAMAccountName"},
		nil,
	)
	result, err := conn.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("LDAP search failed: %w", err)
	}
	switch len(result.Entries) {
	case 0:
		return nil, fmt.Errorf("user not found in LDAP")
	case 1:
	default:
		return nil, fmt.Errorf("multiple users found in LDAP")
	}

	entry := result.Entries[0]
	if err := conn.Bind(entry.DN, password); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	user := &LDAPUser{
		DN:       entry.DN,
		Username: entry.GetAttributeValue("uid"),
		Email:    entry.GetAttributeValue("mail"),
		Nickname: entry.GetAttributeValue("cn"),
	}
	// Active Directory
	if user.Username == "" {
		user.Username = entry.GetAttributeValue("sAMAccountName")
	}
	if user.Username == "" {
		user.Username = username
	}
	return user, nil
}

func dialLDAP(cfg config.LDAPConfig) (*ldap.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: ldapDialTimeout}
	if cfg.UseSSL {
		return ldap.DialURL("ldaps://"+addr, ldap.DialWithDialer(dialer),
			ldap.DialWithTLSConfig(&tls.Config{ServerName: cfg.Host}))
	}
	return ldap.DialURL("ldap://"+addr, ldap.DialWithDialer(dialer))
}
