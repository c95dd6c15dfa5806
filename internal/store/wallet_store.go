package store

import "context"

type WalletStore struct {
	db DB
}

type Wallet struct {
	ID         string  `db:"id"`
	UserID     *string `db:"user_id"`
	Currency   string  `db:"currency"`
	Balance    int64   `db:"balance"`
	Available  int64   `db:"available_balance"`
	Frozen     bool    `db:"frozen"`
	IsPlatform bool    `db:"is_platform"`
	CreatedAt  any     `db:"created_at"`
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) Create(ctx context.Context, tx Execer, id string, userID *string, currency string, balance int64, isPlatform bool) error {
	query := `
		INSERT INTO wallets (id, user_id, currency, balance, available_balance, frozen, is_platform)
		VALUES ($1, $2, $3, $4, $4, FALSE, $5)
	`
	_, err := tx.ExecContext(ctx, query, id, userID, currency, balance, isPlatform)
	return err
}

func (s *WalletStore) GetByID(ctx context.Context, walletID string) (Wallet, error) {
	var row Wallet
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, currency, balance, available_balance, frozen, is_platform, created_at
		FROM wallets
		WHERE id = $1
	`, walletID)
	if err != nil {
		return Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetByUserAndCurrency(ctx context.Context, userID, currency string) (Wallet, error) {
	var row Wallet
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, currency, balance, available_balance, frozen, is_platform, created_at
		FROM wallets
		WHERE user_id = $1 AND currency = $2
	`, userID, currency)
	if err != nil {
		return Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetForUpdate(ctx context.Context, tx Getter, walletID string) (Wallet, error) {
	var row Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT id, user_id, currency, balance, available_balance, frozen, is_platform
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, walletID)
	if err != nil {
		return Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) UpdateBalances(ctx context.Context, tx Execer, walletID string, balance, available int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, available_balance = $2, updated_at = NOW()
		WHERE id = $3
	`, balance, available, walletID)
	return err
}

func (s *WalletStore) SetFrozen(ctx context.Context, tx Execer, walletID string, frozen bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET frozen = $1, updated_at = NOW()
		WHERE id = $2
	`, frozen, walletID)
	return err
}

// GetPlatformWallet returns the per-currency wallet that collects commission.
func (s *WalletStore) GetPlatformWallet(ctx context.Context, currency string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `
		SELECT id
		FROM wallets
		WHERE is_platform = TRUE AND currency = $1
	`, currency)
	return id, err
}

func (s *WalletStore) ListByUser(ctx context.Context, userID string) ([]Wallet, error) {
	var rows []Wallet
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, currency, balance, available_balance, frozen, is_platform, created_at
		FROM wallets
		WHERE user_id = $1
		ORDER BY currency
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
