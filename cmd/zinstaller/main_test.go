package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/pools"
)

func testDisks() []disks.Disk {
	return []disks.Disk{
		{Name: "sda", Size: 60 << 30, Model: "QEMU"},
		{Name: "sdb", Size: 60 << 30, ZfsMembers: []disks.ZfsMember{{Pool: "boot-pool", Device: "sdb3"}}},
		{Name: "sdc", Size: 100 << 30},
	}
}

func TestBuildRequest(t *testing.T) {
	dir := t.TempDir()
	post := filepath.Join(dir, "post.yaml")
	if err := os.WriteFile(post, []byte("network:\n  hostname: nas\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	req, err := buildRequest(testDisks(), installFlags{
		disks:         []string{"sda"},
		wipeBootPools: true,
		password:      "secret",
		topology:      "stripe",
		storageDisks:  []string{"sdc"},
		postInstall:   post,
	}, "boot-pool")
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if got := disks.Names(req.WipeDisks); len(got) != 1 || got[0] != "sdb" {
		t.Fatalf("wipe = %v", got)
	}
	if req.Authentication == nil || req.Authentication.Username != adminUser {
		t.Fatalf("authentication = %+v", req.Authentication)
	}
	if req.StoragePool == nil || req.StoragePool.Topology != pools.Stripe {
		t.Fatalf("storage pool = %+v", req.StoragePool)
	}
	b, err := json.Marshal(req.PostInstall)
	if err != nil {
		t.Fatalf("post_install must encode as JSON: %v", err)
	}
	if string(b) != `{"network":{"hostname":"nas"}}` {
		t.Fatalf("post_install = %s", b)
	}
}

func TestBuildRequestErrors(t *testing.T) {
	cases := map[string]installFlags{
		"unknown disk":     {disks: []string{"sdz"}, webUI: true},
		"no auth":          {disks: []string{"sda"}},
		"unknown topology": {disks: []string{"sda"}, webUI: true, topology: "raid5", storageDisks: []string{"sdc"}},
		"missing file":     {disks: []string{"sda"}, webUI: true, postInstall: "/nonexistent/post.yaml"},
	}
	for name, f := range cases {
		if _, err := buildRequest(testDisks(), f, "boot-pool"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestWriteDisks(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDisks(&buf, testDisks(), "table"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[2], "boot-pool") {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}

	buf.Reset()
	if err := writeDisks(&buf, testDisks(), "json"); err != nil {
		t.Fatal(err)
	}
	var decoded []disks.Disk
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 3 {
		t.Fatalf("json output: %v %s", err, buf.String())
	}

	buf.Reset()
	if err := writeDisks(&buf, testDisks(), "yaml"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "name: sda") {
		t.Fatalf("yaml output:\n%s", buf.String())
	}

	if err := writeDisks(&buf, nil, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	printProgress(&buf)(0.42, "Installing")
	if buf.String() != "[42%] Installing\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"tui": false, "serve": false, "disks": false, "install": false, "version": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing command %s", name)
		}
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "zinstaller dev") {
		t.Fatalf("version output %q", out.String())
	}
}
