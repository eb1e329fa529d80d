// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package extension_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing/fstest"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/extd/internal/extension"
	"github.com/holomush/extd/internal/extension/boundary"
	luactx "github.com/holomush/extd/internal/extension/lua"
	"github.com/holomush/extd/internal/extension/manifest"
	"github.com/holomush/extd/internal/journal"
)

func pack(dir, manifestYAML string, sources map[string]string) {
	files := fstest.MapFS{}
	for name, src := range sources {
		files[name] = &fstest.MapFile{Data: []byte(src)}
	}
	content, err := boundary.Archive(files)
	Expect(err).NotTo(HaveOccurred())

	m, err := manifest.Parse([]byte(manifestYAML))
	Expect(err).NotTo(HaveOccurred())

	var buf bytes.Buffer
	_, err = manifest.WriteContainer(&buf, []byte(manifestYAML), content)
	Expect(err).NotTo(HaveOccurred())
	Expect(os.WriteFile(filepath.Join(dir, m.Identifier+manifest.FileSuffix), buf.Bytes(), 0o600)).To(Succeed())
}

var _ = Describe("Manager with Lua contexts", func() {
	var (
		ctx     context.Context
		dir     string
		manager *extension.Manager
		jrnl    *journal.SQLite
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()

		pack(dir, `
format-version: 1
identifier: org.example.lib
version: 1.4.0
display-name: Library
`, map[string]string{
			"org/example/shared/util.lua": `return { prefix = "hello, " }`,
			"org/example/shared/bye.lua":  `return { message = "app stopped" }`,
		})

		pack(dir, `
format-version: 1
identifier: org.example.app
version: 1.0.0
display-name: App
dependencies:
  extensions:
    - identifier: org.example.lib
      version-range: "[1.0.0,2.0.0)"
`, map[string]string{
			"org/example/app/main.lua": `
local util = require("org.example.shared.util")
function greet(name) return util.prefix .. name end
return {
  start = function() logger.info("app started") end,
  stop = function()
    local bye = require("org.example.shared.bye")
    logger.info(bye.message)
  end,
}
`,
		})

		pack(dir, `
format-version: 1
identifier: org.example.broken
version: 1.0.0
`, map[string]string{
			"org/example/broken/main.lua": `error("broken on purpose")`,
		})

		var err error
		jrnl, err = journal.OpenSQLite(ctx, filepath.Join(GinkgoT().TempDir(), "journal.db"))
		Expect(err).NotTo(HaveOccurred())

		factory := luactx.NewFactory(luactx.NewStateFactory(), nil)
		root := factory.NewRoot()
		Expect(root.RegisterSingleton("host", "extd-test")).To(Succeed())

		manager = extension.NewManager(dir, factory,
			extension.WithRootContext(root),
			extension.WithJournal(jrnl))
	})

	AfterEach(func() {
		manager.Stop(ctx)
		Expect(jrnl.Close()).To(Succeed())
	})

	It("runs dependents with modules from their dependencies", func() {
		Expect(manager.Start(ctx)).To(Succeed())

		app, ok := manager.Lookup("org.example.app")
		Expect(ok).To(BeTrue())
		Expect(app.Phase()).To(Equal(extension.PhaseRunning))

		lc, ok := app.Context().(*luactx.Context)
		Expect(ok).To(BeTrue())
		Expect(lc.Call("greet", "world")).To(Equal("hello, world"))

		host, ok := lc.Singleton("host")
		Expect(ok).To(BeTrue())
		Expect(host).To(Equal("extd-test"))
	})

	It("isolates a failing extension", func() {
		Expect(manager.Start(ctx)).To(Succeed())

		broken, ok := manager.Lookup("org.example.broken")
		Expect(ok).To(BeTrue())
		Expect(broken.Phase()).To(Equal(extension.PhaseRegistered))
		Expect(broken.Boundary()).To(BeNil())

		entries, err := jrnl.List(ctx, "org.example.broken", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Outcome).To(Equal(journal.OutcomeFailed))
		Expect(entries[0].Error).To(ContainSubstring("broken on purpose"))
	})

	It("stops dependents while their dependencies are still open", func() {
		Expect(manager.Start(ctx)).To(Succeed())
		manager.Shutdown(ctx)

		entries, err := jrnl.List(ctx, "org.example.app", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Phase).To(Equal("shutdown"))
		Expect(entries[0].Outcome).To(Equal(journal.OutcomeSucceeded))
		Expect(entries[0].Error).To(BeEmpty())
	})

	It("releases every extension on stop", func() {
		Expect(manager.Start(ctx)).To(Succeed())
		exts := manager.Extensions()
		Expect(exts).To(HaveLen(3))

		manager.Stop(ctx)
		Expect(manager.Extensions()).To(BeEmpty())
		for _, ext := range exts {
			Expect(ext.Phase()).To(Equal(extension.PhaseRegistered))
			Expect(ext.Context()).To(BeNil())
		}
	})
})
