package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/amara/loan-screener/internal/models"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidCreds = errors.New("invalid credentials")

	jwtSecretOnce    sync.Once
	jwtSecretRuntime []byte
	jwtSecretErr     error
)

func jwtSecretFromEnv() ([]byte, error) {
	jwtSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
		if secret != "" {
			jwtSecretRuntime = []byte(secret)
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			jwtSecretErr = fmt.Errorf("failed to generate JWT fallback secret: %w", err)
			return
		}

		jwtSecretRuntime = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Print("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if jwtSecretErr != nil {
		return nil, jwtSecretErr
	}
	if len(jwtSecretRuntime) == 0 {
		return nil, errors.New("JWT secret unavailable")
	}

	return jwtSecretRuntime, nil
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	// check if user exists
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", req.Email).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	// hash password
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	// insert user
	var user User
	err = s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, created_at
	`, req.Email, string(hash)).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert failed: %w", err)
	}

	// generate token
	token, err := generateToken(user.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{Token: token, User: user}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var user User
	err := s.db.QueryRow(ctx, "SELECT id, email, password_hash, created_at FROM users WHERE email = $1", req.Email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}

	token, err := generateToken(user.ID)
	if err != nil {
		return nil, err
	}

	// Clear hash before returning
	user.PasswordHash = ""
	return &AuthResponse{Token: token, User: user}, nil
}

func generateToken(userID uuid.UUID) (string, error) {
	secretKey, err := jwtSecretFromEnv()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey)
}

// Watchlist

func (s *Service) WatchLoan(ctx context.Context, userID uuid.UUID, loanID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO saved_loans (user_id, loan_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, loan_id) DO NOTHING
	`, userID, loanID)
	return err
}

func (s *Service) UnwatchLoan(ctx context.Context, userID uuid.UUID, loanID int64) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM saved_loans
		WHERE user_id = $1 AND loan_id = $2
	`, userID, loanID)
	return err
}

// GetWatchlist returns the user's saved loans with their current verdicts,
// newest save first. A rescore can flip a saved loan to ineligible; the
// stored verdict is returned as is so the list reflects reality.
func (s *Service) GetWatchlist(ctx context.Context, userID uuid.UUID) ([]models.ScreenedLoan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT l.loan_id, l.name, l.description, l.description_original, l.country_code,
		       l.sector_id, l.sector_name, l.borrower_id, l.partner_id, l.partner_name,
		       l.risk_rating, l.default_rate, l.age, l.term_months, l.loan_amount,
		       l.tags, l.eligible, l.reasons, l.prior_loans, l.tier,
		       l.lend_amount, l.country_share, l.partner_share, l.in_batch_a, l.in_batch_b,
		       l.phrase_matched, l.last_run_id, l.created_at, l.updated_at
		FROM screened_loans l
		JOIN saved_loans sl ON l.loan_id = sl.loan_id
		WHERE sl.user_id = $1
		ORDER BY sl.saved_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []models.ScreenedLoan
	for rows.Next() {
		var l models.ScreenedLoan
		err := rows.Scan(
			&l.LoanID, &l.Name, &l.Description, &l.DescriptionOriginal, &l.CountryCode,
			&l.SectorID, &l.SectorName, &l.BorrowerID, &l.PartnerID, &l.PartnerName,
			&l.RiskRating, &l.DefaultRate, &l.Age, &l.TermMonths, &l.LoanAmount,
			&l.Tags, &l.Eligible, &l.Reasons, &l.PriorLoans, &l.Tier,
			&l.LendAmount, &l.CountryShare, &l.PartnerShare, &l.InBatchA, &l.InBatchB,
			&l.PhraseMatched, &l.LastRunID, &l.CreatedAt, &l.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if l.Tags == nil {
			l.Tags = []string{}
		}
		if l.Reasons == nil {
			l.Reasons = []string{}
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}
