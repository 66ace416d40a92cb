package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"pasal/backend/internal/domain"
	"pasal/backend/internal/store"
)

var (
	ErrNoSession = errors.New("no active session")
	ErrNoCompany = errors.New("no company selected")
)

type sessionContextKey struct{}

func WithSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(domain.Session)
	return session, ok
}

// requireCompany returns the request session, failing when no company and
// fiscal year have been chosen yet.
func requireCompany(ctx context.Context) (domain.Session, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return domain.Session{}, ErrNoSession
	}
	if session.Company == nil || session.FiscalYear == nil {
		return domain.Session{}, ErrNoCompany
	}
	return session, nil
}

func CanCreateCompany(role string) bool {
	return role == domain.RoleAdmin || role == domain.RoleSupervisor
}

// StartSession builds the session a fresh login gets: the user's first
// accessible company with its current fiscal year, or no company at all.
func (s *Service) StartSession(ctx context.Context, user domain.User) (domain.Session, error) {
	session := domain.Session{User: user}
	companies, err := s.repo.ListCompaniesForUser(ctx, user.Username)
	if err != nil {
		return domain.Session{}, err
	}
	for _, company := range companies {
		fy, err := s.repo.CurrentFiscalYear(ctx, company.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Session{}, err
		}
		session.Company = &company
		session.FiscalYear = fy
		break
	}
	return session, nil
}

// ResolveSession rebuilds a session from token claims. Company access is
// checked on every call, so a user whose access was withdrawn keeps the login
// but loses the company. The fiscal year is always the company's current one
// so a year rollover applies to existing tokens.
func (s *Service) ResolveSession(ctx context.Context, user domain.User, companyID string) (domain.Session, error) {
	session := domain.Session{User: user}
	if companyID == "" {
		return session, nil
	}
	companies, err := s.repo.ListCompaniesForUser(ctx, user.Username)
	if err != nil {
		return domain.Session{}, err
	}
	idx := slices.IndexFunc(companies, func(c domain.Company) bool { return c.ID == companyID })
	if idx < 0 {
		return session, nil
	}
	company := &companies[idx]
	fy, err := s.repo.CurrentFiscalYear(ctx, companyID)
	if errors.Is(err, store.ErrNotFound) {
		return session, nil
	}
	if err != nil {
		return domain.Session{}, err
	}
	session.Company = company
	session.FiscalYear = fy
	return session, nil
}

func (s *Service) ListUserCompanies(ctx context.Context) (domain.UserCompaniesResponse, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return domain.UserCompaniesResponse{}, ErrNoSession
	}
	companies, err := s.repo.ListCompaniesForUser(ctx, session.User.Username)
	if err != nil {
		return domain.UserCompaniesResponse{}, err
	}
	return domain.UserCompaniesResponse{
		Companies:        companies,
		CanCreateCompany: CanCreateCompany(session.User.Role),
	}, nil
}

// SwitchCompany moves the session to companyID and its current fiscal year.
// The caller re-issues the token from the returned session.
func (s *Service) SwitchCompany(ctx context.Context, companyID string) (domain.Session, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return domain.Session{}, ErrNoSession
	}
	companies, err := s.repo.ListCompaniesForUser(ctx, session.User.Username)
	if err != nil {
		return domain.Session{}, err
	}
	allowed := slices.ContainsFunc(companies, func(c domain.Company) bool { return c.ID == companyID })
	if !allowed {
		return domain.Session{}, fmt.Errorf("%w: no access to company %s", store.ErrForbidden, companyID)
	}

	company, err := s.repo.GetCompany(ctx, companyID)
	if err != nil {
		return domain.Session{}, err
	}
	fy, err := s.repo.CurrentFiscalYear(ctx, companyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, fmt.Errorf("%w: company %s has no fiscal year", store.ErrNotFound, companyID)
		}
		return domain.Session{}, err
	}

	s.log.Info("company switched",
		zap.String("username", session.User.Username),
		zap.String("company_id", company.ID),
		zap.String("fiscal_year_id", fy.ID),
	)
	return domain.Session{
		User:       session.User,
		Company:    company,
		FiscalYear: fy,
	}, nil
}

// ShareCurrentCompany gives username access to the caller's current company.
func (s *Service) ShareCurrentCompany(ctx context.Context, username string) error {
	session, err := requireCompany(ctx)
	if err != nil {
		return err
	}
	return s.repo.GrantCompanyAccess(ctx, username, session.Company.ID)
}
