package parser

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/netip"

	"submission-allowlist/internal/utils"

	_ "github.com/go-sql-driver/mysql"
)

// TrustedNetworkDB loads site-maintained trusted networks from the
// cfg_trusted_network table.
type TrustedNetworkDB struct {
	db *sql.DB

	Networks []netip.Prefix
}

func NewTrustedNetworkDB(ctx context.Context, dsn string) (*TrustedNetworkDB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &TrustedNetworkDB{db: db}, nil
}

func (p *TrustedNetworkDB) Close() {
	p.db.Close()
}

// Load reads the enabled rows. Rows that are not an address or prefix are
// skipped.
func (p *TrustedNetworkDB) Load(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, "SELECT network FROM cfg_trusted_network WHERE enabled = 1 ORDER BY id ASC")
	if err != nil {
		return fmt.Errorf("failed to load trusted networks: %w", err)
	}
	defer rows.Close()

	var networks []netip.Prefix
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("failed to scan trusted network: %w", err)
		}
		prefix, err := utils.ParseSource(raw)
		if err != nil {
			slog.Warn("Skipping invalid trusted network", "network", raw, "error", err)
			continue
		}
		networks = append(networks, prefix)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read trusted networks: %w", err)
	}
	p.Networks = networks
	return nil
}

// LoadTrustedNetworks opens dsn, loads the table and closes the connection.
func LoadTrustedNetworks(ctx context.Context, dsn string) ([]netip.Prefix, error) {
	p, err := NewTrustedNetworkDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	return p.Networks, nil
}
