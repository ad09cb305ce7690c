// Package auth resolves the Azure credential used to talk to the managed
// agent platform.
//
// Resolution walks a fixed chain - managed identity, then service principal,
// then the Azure CLI session - and caches the first credential that can
// actually mint a token. The chain runs once per process; a bad cached
// credential is only discarded by an explicit Reset. Credential material
// never appears in logs or error messages.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"foundry/pkg/clienterrors"
	"foundry/pkg/config"
	"foundry/pkg/logx"
)

// TokenScope is the OAuth scope requested for platform calls.
const TokenScope = "https://cognitiveservices.azure.com/.default"

// probeTimeout bounds the token round-trip used to validate each candidate.
// Without it a misconfigured IMDS endpoint can hang the whole chain.
const probeTimeout = 10 * time.Second

// Method identifies which credential source the chain settled on.
type Method string

// Chain order: managed identity, service principal, CLI session.
const (
	MethodManagedIdentity  = Method(config.AuthMethodManagedIdentity)
	MethodServicePrincipal = Method(config.AuthMethodServicePrincipal)
	MethodCLI              = Method(config.AuthMethodCLI)
)

// Resolved is a successfully validated credential and the method that
// produced it.
type Resolved struct {
	Credential azcore.TokenCredential
	Method     Method
}

// Resolver walks the credential chain and caches the winner. The zero value
// is not usable; call NewResolver.
type Resolver struct {
	mu       sync.Mutex
	resolved *Resolved

	logger *logx.Logger

	// Constructor and probe hooks. Tests replace these; production code
	// never touches them.
	newManagedIdentity  func() (azcore.TokenCredential, error)
	newServicePrincipal func(tenantID, clientID, clientSecret string) (azcore.TokenCredential, error)
	newCLI              func() (azcore.TokenCredential, error)
	probe               func(ctx context.Context, cred azcore.TokenCredential) error
}

// NewResolver creates a resolver backed by the real azidentity constructors.
func NewResolver() *Resolver {
	return &Resolver{
		logger: logx.NewLogger("auth"),
		newManagedIdentity: func() (azcore.TokenCredential, error) {
			return azidentity.NewManagedIdentityCredential(nil)
		},
		newServicePrincipal: func(tenantID, clientID, clientSecret string) (azcore.TokenCredential, error) {
			return azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
		},
		newCLI: func() (azcore.TokenCredential, error) {
			return azidentity.NewAzureCliCredential(nil)
		},
		probe: func(ctx context.Context, cred azcore.TokenCredential) error {
			_, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{TokenScope}})
			return err
		},
	}
}

// Resolve returns the cached credential or walks the chain to find one.
// Safe for concurrent use; only one resolution runs at a time and every
// caller sees the same result.
func (r *Resolver) Resolve(ctx context.Context, cfg *config.Config) (*Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		return r.resolved, nil
	}

	type candidate struct {
		method Method
		build  func() (azcore.TokenCredential, error)
	}

	var chain []candidate
	// Managed identity only makes sense when the ambient identity endpoint
	// exists; constructing it elsewhere stalls on the IMDS probe.
	if cfg.AuthMethod() == config.AuthMethodManagedIdentity {
		chain = append(chain, candidate{MethodManagedIdentity, r.newManagedIdentity})
	}
	if cfg.HasServicePrincipal() {
		tenantID, clientID, clientSecret := cfg.TenantID, cfg.ClientID, cfg.ClientSecret
		chain = append(chain, candidate{MethodServicePrincipal, func() (azcore.TokenCredential, error) {
			return r.newServicePrincipal(tenantID, clientID, clientSecret)
		}})
	}
	chain = append(chain, candidate{MethodCLI, r.newCLI})

	var attempted []string
	var lastErr error
	for _, cand := range chain {
		cred, err := cand.build()
		if err != nil {
			r.logger.Debug("credential %s unavailable: %v", cand.method, err)
			attempted = append(attempted, string(cand.method))
			lastErr = err
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err = r.probe(probeCtx, cred)
		cancel()
		if err != nil {
			r.logger.Debug("credential %s failed token probe: %v", cand.method, err)
			attempted = append(attempted, string(cand.method))
			lastErr = err
			continue
		}

		r.resolved = &Resolved{Credential: cred, Method: cand.method}
		r.logger.Info("authenticated via %s", cand.method)
		return r.resolved, nil
	}

	return nil, clienterrors.NewAuthenticationError(lastErr,
		fmt.Sprintf("no credential source succeeded (tried: %s)", strings.Join(attempted, ", ")))
}

// Reset discards the cached credential so the next Resolve walks the chain
// again. Used after role assignment changes or CLI re-login.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = nil
}

// Package-level default resolver, mirroring how a process authenticates
// exactly once regardless of how many clients it builds.
//
//nolint:gochecknoglobals // Intentional process-wide credential cache
var defaultResolver = NewResolver()

// Resolve resolves a credential using the process-wide resolver.
func Resolve(ctx context.Context, cfg *config.Config) (*Resolved, error) {
	return defaultResolver.Resolve(ctx, cfg)
}

// Reset clears the process-wide credential cache.
func Reset() {
	defaultResolver.Reset()
}
