package config

import (
	"time"

	"github.com/searchktools/embedserver/ipaccess"
	"github.com/searchktools/embedserver/server"
)

// PopulateServerOptions builds a server.Options from whatever keys are
// present in m, falling back to server.DefaultOptions for anything m
// doesn't carry. Keys match the lowercased Options field names, e.g.
// "port", "connectiontimeout", "regexchecking", "bansystemenabled".
func PopulateServerOptions(m *Manager) server.Options {
	b := server.NewBuilder()

	if _, ok := m.Get("port"); ok {
		b = b.Port(m.GetInt("port"))
	}
	if _, ok := m.Get("maxthreads"); ok {
		b = b.MaxThreads(m.GetInt("maxthreads"))
	}
	if _, ok := m.Get("maxconnections"); ok {
		b = b.MaxConnections(m.GetInt("maxconnections"))
	}
	if _, ok := m.Get("connectiontimeout"); ok {
		b = b.ConnectionTimeout(m.GetDuration("connectiontimeout", 30*time.Second))
	}
	if _, ok := m.Get("useipv6"); ok {
		b = b.UseIPv6(m.GetBool("useipv6"))
	}
	if _, ok := m.Get("usessl"); ok {
		b = b.UseSSL(m.GetBool("usessl"))
	}
	if _, ok := m.Get("debug"); ok {
		b = b.Debug(m.GetBool("debug"))
	}
	if _, ok := m.Get("regexchecking"); ok {
		b = b.RegexChecking(m.GetBool("regexchecking"))
	}
	if _, ok := m.Get("bansystemenabled"); ok {
		b = b.BanSystemEnabled(m.GetBool("bansystemenabled"))
	}
	if _, ok := m.Get("basicauthenabled"); ok {
		b = b.BasicAuthEnabled(m.GetBool("basicauthenabled"))
	}
	if _, ok := m.Get("digestauthenabled"); ok {
		b = b.DigestAuthEnabled(m.GetBool("digestauthenabled"))
	}
	if _, ok := m.Get("lowlatencygc"); ok {
		b = b.LowLatencyGC(m.GetBool("lowlatencygc"))
	}
	if v := m.GetString("defaultpolicy"); v == "reject" {
		b = b.DefaultPolicy(ipaccess.Reject)
	}
	if v := m.GetString("httpsmemkey"); v != "" {
		b = b.HTTPSMemKey(v)
	}
	if v := m.GetString("httpsmemcert"); v != "" {
		b = b.HTTPSMemCert(v)
	}
	if v := m.GetString("httpsmemtrust"); v != "" {
		b = b.HTTPSMemTrust(v)
	}

	opts, err := b.Build()
	if err != nil {
		return server.DefaultOptions()
	}
	return opts
}
