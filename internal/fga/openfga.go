package fga

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openfga "github.com/openfga/go-sdk"
	"github.com/openfga/go-sdk/client"
	"github.com/openfga/go-sdk/credentials"
)

const readPageSize int32 = 100

// Config describes how to reach the FGA store.
type Config struct {
	APIURL       string
	StoreID      string
	ModelID      string
	ClientID     string
	ClientSecret string
	TokenIssuer  string
	Audience     string
}

// OpenFGA implements Client over the OpenFGA SDK.
type OpenFGA struct {
	sdk    *client.OpenFgaClient
	logger *slog.Logger
}

// NewOpenFGA builds the SDK client. Client credentials are used when a
// client id is configured; otherwise requests are unauthenticated (local
// OpenFGA servers).
func NewOpenFGA(cfg Config, logger *slog.Logger) (*OpenFGA, error) {
	if cfg.APIURL == "" || cfg.StoreID == "" {
		return nil, fmt.Errorf("fga: api url and store id required")
	}
	conf := &client.ClientConfiguration{
		ApiUrl:               strings.TrimSuffix(cfg.APIURL, "/"),
		StoreId:              cfg.StoreID,
		AuthorizationModelId: cfg.ModelID,
	}
	if cfg.ClientID != "" {
		conf.Credentials = &credentials.Credentials{
			Method: credentials.CredentialsMethodClientCredentials,
			Config: &credentials.Config{
				ClientCredentialsClientId:       cfg.ClientID,
				ClientCredentialsClientSecret:   cfg.ClientSecret,
				ClientCredentialsApiTokenIssuer: cfg.TokenIssuer,
				ClientCredentialsApiAudience:    cfg.Audience,
			},
		}
	}
	sdk, err := client.NewSdkClient(conf)
	if err != nil {
		return nil, fmt.Errorf("fga: new client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenFGA{sdk: sdk, logger: logger}, nil
}

// Check implements Client.
func (c *OpenFGA) Check(ctx context.Context, tuple TupleKey) (bool, error) {
	resp, err := c.sdk.Check(ctx).Body(client.ClientCheckRequest{
		User:     tuple.User,
		Relation: tuple.Relation,
		Object:   tuple.Object,
	}).Execute()
	if err != nil {
		return false, fmt.Errorf("%w: check %s: %v", ErrUnavailable, tuple, err)
	}
	return resp.GetAllowed(), nil
}

// WriteTuple implements Client. The service rejects duplicate writes, so an
// exact-key read runs first.
func (c *OpenFGA) WriteTuple(ctx context.Context, tuple TupleKey) error {
	exists, err := c.exists(ctx, tuple)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = c.sdk.Write(ctx).Body(client.ClientWriteRequest{
		Writes: []client.ClientTupleKey{{User: tuple.User, Relation: tuple.Relation, Object: tuple.Object}},
	}).Execute()
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, tuple, err)
	}
	c.logger.Debug("fga tuple written", slog.String("tuple", tuple.String()))
	return nil
}

// DeleteTuple implements Client. Deleting an absent tuple is a no-op.
func (c *OpenFGA) DeleteTuple(ctx context.Context, tuple TupleKey) error {
	exists, err := c.exists(ctx, tuple)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_, err = c.sdk.Write(ctx).Body(client.ClientWriteRequest{
		Deletes: []client.ClientTupleKeyWithoutCondition{{User: tuple.User, Relation: tuple.Relation, Object: tuple.Object}},
	}).Execute()
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, tuple, err)
	}
	c.logger.Debug("fga tuple deleted", slog.String("tuple", tuple.String()))
	return nil
}

// ListObjects implements Client.
func (c *OpenFGA) ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error) {
	resp, err := c.sdk.ListObjects(ctx).Body(client.ClientListObjectsRequest{
		User:     user,
		Relation: relation,
		Type:     objectType,
	}).Execute()
	if err != nil {
		return nil, fmt.Errorf("%w: list %s %s %s: %v", ErrUnavailable, user, relation, objectType, err)
	}
	objects := resp.GetObjects()
	ids := make([]string, 0, len(objects))
	for _, object := range objects {
		if _, id, ok := SplitObject(object); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ReadTuples implements Client, following continuation tokens to the end.
func (c *OpenFGA) ReadTuples(ctx context.Context, filter TupleFilter) ([]TupleKey, error) {
	body := client.ClientReadRequest{}
	if filter.User != "" {
		body.User = openfga.PtrString(filter.User)
	}
	if filter.Relation != "" {
		body.Relation = openfga.PtrString(filter.Relation)
	}
	if filter.Object != "" {
		body.Object = openfga.PtrString(filter.Object)
	}
	var (
		out   []TupleKey
		token string
	)
	for {
		opts := client.ClientReadOptions{PageSize: openfga.PtrInt32(readPageSize)}
		if token != "" {
			opts.ContinuationToken = openfga.PtrString(token)
		}
		resp, err := c.sdk.Read(ctx).Body(body).Options(opts).Execute()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, filter.Object, err)
		}
		for _, t := range resp.GetTuples() {
			key := t.GetKey()
			out = append(out, TupleKey{User: key.GetUser(), Relation: key.GetRelation(), Object: key.GetObject()})
		}
		token = resp.GetContinuationToken()
		if token == "" {
			return out, nil
		}
	}
}

func (c *OpenFGA) exists(ctx context.Context, tuple TupleKey) (bool, error) {
	resp, err := c.sdk.Read(ctx).Body(client.ClientReadRequest{
		User:     openfga.PtrString(tuple.User),
		Relation: openfga.PtrString(tuple.Relation),
		Object:   openfga.PtrString(tuple.Object),
	}).Execute()
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, tuple, err)
	}
	return len(resp.GetTuples()) > 0, nil
}

var (
	_ Client = (*OpenFGA)(nil)
	_ Client = (*Memory)(nil)
)
