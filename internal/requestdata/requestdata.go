package requestdata

import (
  "context"
  "github.com/google/uuid"
)

var requestDataKey = struct{}{}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
  return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
  val := ctx.Value(requestDataKey)
  if rd, ok := val.(*RequestData); ok {
    return rd
  }
  return nil
}

// OrgID returns the tenant scope for the request, or uuid.Nil when the
// request carried none.
func OrgID(ctx context.Context) uuid.UUID {
  if rd := GetRequestData(ctx); rd != nil {
    return rd.OrgID
  }
  return uuid.Nil
}

type RequestData struct {
  OrgID             uuid.UUID
  RequestID         string
}
