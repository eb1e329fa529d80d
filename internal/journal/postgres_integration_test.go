// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package journal_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/extd/internal/journal"
)

var _ = Describe("Postgres journal", func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		dsn       string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("extd_test"),
			postgres.WithUsername("extd"),
			postgres.WithPassword("extd"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = container.Terminate(ctx)
	})

	It("migrates, appends and lists entries", func() {
		w, err := journal.OpenPostgres(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		defer w.Close()

		Expect(w.Append(ctx, journal.Entry{
			Extension: "org.example.core",
			Version:   "1.0.0",
			Phase:     "RUNNING",
			Outcome:   journal.OutcomeSucceeded,
		})).To(Succeed())

		entries, err := w.List(ctx, "ORG.EXAMPLE.CORE", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Phase).To(Equal("RUNNING"))
	})

	It("is safe to migrate twice", func() {
		Expect(journal.MigratePostgres(dsn)).To(Succeed())
		Expect(journal.MigratePostgres(dsn)).To(Succeed())
	})
})
