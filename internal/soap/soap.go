// Package soap calls the Ad Manager SOAP API on behalf of the router. It
// builds request envelopes from generic payloads, classifies faults, and
// retries transient failures with exponential backoff.
package soap

import (
	"context"
	"fmt"
	"strings"
)

// Operation names a SOAP method on a service, e.g. OrderService.createOrders.
type Operation struct {
	Service string
	Method  string
}

// String returns "Service.method".
func (o Operation) String() string {
	return o.Service + "." + o.Method
}

// Result is the decoded content of a successful response element. Repeated
// child elements become []any; text-only elements become strings.
type Result map[string]any

// Invoker performs one logical upstream call, including any retries.
type Invoker interface {
	Invoke(ctx context.Context, op Operation, accessToken string, payload map[string]any) (Result, error)
}

// Ad Manager services used by the gateway.
const (
	ServiceOrder    = "OrderService"
	ServiceLineItem = "LineItemService"
	ServiceReport   = "ReportService"
)

// Operations used by the gateway.
var (
	OpCreateOrders            = Operation{ServiceOrder, "createOrders"}
	OpUpdateOrders            = Operation{ServiceOrder, "updateOrders"}
	OpGetOrdersByStatement    = Operation{ServiceOrder, "getOrdersByStatement"}
	OpPerformOrderAction      = Operation{ServiceOrder, "performOrderAction"}
	OpCreateLineItems         = Operation{ServiceLineItem, "createLineItems"}
	OpGetLineItemsByStatement = Operation{ServiceLineItem, "getLineItemsByStatement"}
	OpRunReportJob            = Operation{ServiceReport, "runReportJob"}
)

// Statement builds a PQL filter statement payload value.
func Statement(query string, limit, offset int) map[string]any {
	if limit > 0 {
		query = strings.TrimSpace(fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset))
	}
	return map[string]any{"query": query}
}
