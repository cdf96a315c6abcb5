package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func registerExceptionHandlers(api huma.API, svc Service) {
	type exceptionsOutput struct {
		Body struct {
			Domains []string `json:"domains"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-exceptions", Method: http.MethodGet, Path: "/api/v1/exceptions", Summary: "List exempted domains", Tags: []string{"Exceptions"}},
		func(ctx context.Context, input *struct{}) (*exceptionsOutput, error) {
			domains, err := svc.ListExceptions(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &exceptionsOutput{}
			out.Body.Domains = domains
			return out, nil
		})

	type addExceptionInput struct {
		Body struct {
			Domain string `json:"domain" doc:"Hostname or URL to exempt from isolation"`
		}
	}
	type exceptionOutput struct {
		Body struct {
			Domain string `json:"domain"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "add-exception", Method: http.MethodPost, Path: "/api/v1/exceptions", Summary: "Exempt a domain from isolation", Tags: []string{"Exceptions"}},
		func(ctx context.Context, input *addExceptionInput) (*exceptionOutput, error) {
			domain, err := svc.AddException(ctx, input.Body.Domain)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &exceptionOutput{}
			out.Body.Domain = domain
			return out, nil
		})

	type removeExceptionInput struct {
		Domain string `path:"domain" doc:"Hostname to re-isolate"`
	}
	huma.Register(api, huma.Operation{OperationID: "remove-exception", Method: http.MethodDelete, Path: "/api/v1/exceptions/{domain}", Summary: "Remove a domain exemption", Tags: []string{"Exceptions"}},
		func(ctx context.Context, input *removeExceptionInput) (*exceptionOutput, error) {
			domain, err := svc.RemoveException(ctx, input.Domain)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &exceptionOutput{}
			out.Body.Domain = domain
			return out, nil
		})
}
