package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/iso_agent/internal/controller"
	"github.com/dgnsrekt/iso_agent/internal/host"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status    string `json:"status"`
			Container string `json:"container"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Container = string(svc.ContainerID())
			return out, nil
		})

	type domainsOutput struct {
		Body struct {
			Domains []string `json:"domains"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tracked-domains", Method: http.MethodGet, Path: "/api/v1/domains", Summary: "List isolated domains", Tags: []string{"Domains"}},
		func(ctx context.Context, input *struct{}) (*domainsOutput, error) {
			out := &domainsOutput{}
			out.Body.Domains = svc.TrackedDomains()
			return out, nil
		})

	type tabStatusInput struct {
		TabID string `path:"tab_id"`
	}
	type tabStatusOutput struct {
		Body controller.TabStatus
	}
	huma.Register(api, huma.Operation{OperationID: "get-tab-state", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/state", Summary: "Get the panel state for a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabStatusInput) (*tabStatusOutput, error) {
			status, err := svc.TabStatus(ctx, host.TabID(input.TabID))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabStatusOutput{}
			out.Body = status
			return out, nil
		})

	type sweepOutput struct {
		Body struct {
			SweepID string `json:"sweep_id"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "run-sweep", Method: http.MethodPost, Path: "/api/v1/sweep", Summary: "Sweep leaked tracking cookies", Tags: []string{"Sweep"}},
		func(ctx context.Context, input *struct{}) (*sweepOutput, error) {
			sweepID, err := svc.Sweep(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sweepOutput{}
			out.Body.SweepID = sweepID
			return out, nil
		})

	type oracleOutput struct {
		Body controller.OracleStatus
	}
	huma.Register(api, huma.Operation{OperationID: "oracle-status", Method: http.MethodGet, Path: "/api/v1/oracle", Summary: "Assignment oracle connection status", Tags: []string{"Oracle"}},
		func(ctx context.Context, input *struct{}) (*oracleOutput, error) {
			out := &oracleOutput{}
			out.Body = svc.OracleStatus()
			return out, nil
		})
}
