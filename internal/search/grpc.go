package search

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// Wire names of the search service. Messages are google.protobuf.Struct so no
// generated stubs are needed on either side.
const (
	serviceName         = "companion.search.v1.SearchService"
	searchSimilarMethod = "/" + serviceName + "/SearchSimilar"
)

// #region client

// GRPCClient calls a remote SearchService.
type GRPCClient struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// NewGRPCClient connects to the search service at addr.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, cc: conn}, nil
}

// NewGRPCClientWithConn wraps an existing connection.
func NewGRPCClientWithConn(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// Close shuts down a connection opened by NewGRPCClient.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// SearchSimilar sends q to the remote service.
func (c *GRPCClient) SearchSimilar(ctx context.Context, q Query) ([]Hit, error) {
	req, err := encodeQuery(q.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, searchSimilarMethod, req, resp); err != nil {
		return nil, fmt.Errorf("search rpc: %w", err)
	}
	return consistent(decodeHits(resp)), nil
}

// #endregion client

// #region server

// RegisterSearchServer exposes impl as a SearchService on s.
func RegisterSearchServer(s grpc.ServiceRegistrar, impl Searcher) {
	s.RegisterService(&searchServiceDesc, impl)
}

var searchServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Searcher)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "SearchSimilar",
		Handler:    searchSimilarHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "companion/search/v1/search.proto",
}

func searchSimilarHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		q := decodeQuery(req.(*structpb.Struct))
		if q.UserID == "" {
			return nil, status.Error(codes.InvalidArgument, "user_id is required")
		}
		hits, err := srv.(Searcher).SearchSimilar(ctx, q)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return encodeHits(hits)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: searchSimilarMethod}
	return interceptor(ctx, in, info, call)
}

// #endregion server

// #region codec

func encodeQuery(q Query) (*structpb.Struct, error) {
	m := map[string]any{
		"query":   q.Text,
		"user_id": q.UserID,
		"types":   anyList(q.Types),
		"scopes":  []any{q.Visibility},
		"status":  q.Status,
		"top_k":   q.TopK,
	}
	if !q.From.IsZero() {
		m["from"] = store.FormatTime(q.From)
	}
	if !q.To.IsZero() {
		m["to"] = store.FormatTime(q.To)
	}
	return structpb.NewStruct(m)
}

func decodeQuery(s *structpb.Struct) Query {
	f := s.GetFields()
	q := Query{
		Text:   f["query"].GetStringValue(),
		UserID: f["user_id"].GetStringValue(),
		Status: f["status"].GetStringValue(),
		TopK:   int(f["top_k"].GetNumberValue()),
	}
	for _, v := range f["types"].GetListValue().GetValues() {
		q.Types = append(q.Types, v.GetStringValue())
	}
	if scopes := f["scopes"].GetListValue().GetValues(); len(scopes) > 0 {
		q.Visibility = scopes[0].GetStringValue()
	}
	if v := f["from"].GetStringValue(); v != "" {
		q.From = store.ParseTime(v)
	}
	if v := f["to"].GetStringValue(); v != "" {
		q.To = store.ParseTime(v)
	}
	return q
}

func encodeHits(hits []Hit) (*structpb.Struct, error) {
	list := make([]any, 0, len(hits))
	for _, h := range hits {
		a := h.Artifact
		list = append(list, map[string]any{
			"score": h.Score,
			"artifact": map[string]any{
				"id":         a.ID,
				"user_id":    a.UserID,
				"type":       a.Type,
				"status":     a.Status,
				"visibility": a.Visibility,
				"title":      a.Title,
				"body":       a.Body,
				"verse_ref":  a.VerseRef,
				"book_id":    a.BookID,
				"chapter":    a.Chapter,
				"created_at": a.CreatedAt,
				"updated_at": a.UpdatedAt,
			},
		})
	}
	return structpb.NewStruct(map[string]any{"hits": list})
}

func decodeHits(s *structpb.Struct) []Hit {
	vals := s.GetFields()["hits"].GetListValue().GetValues()
	hits := make([]Hit, 0, len(vals))
	for _, v := range vals {
		hf := v.GetStructValue().GetFields()
		af := hf["artifact"].GetStructValue().GetFields()
		str := func(k string) string { return af[k].GetStringValue() }
		hits = append(hits, Hit{
			Score: hf["score"].GetNumberValue(),
			Artifact: store.UserArtifact{
				ID:         str("id"),
				UserID:     str("user_id"),
				Type:       str("type"),
				Status:     str("status"),
				Visibility: str("visibility"),
				Title:      str("title"),
				Body:       str("body"),
				VerseRef:   str("verse_ref"),
				BookID:     str("book_id"),
				Chapter:    int(af["chapter"].GetNumberValue()),
				CreatedAt:  str("created_at"),
				UpdatedAt:  str("updated_at"),
			},
		})
	}
	return hits
}

func anyList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// #endregion codec
