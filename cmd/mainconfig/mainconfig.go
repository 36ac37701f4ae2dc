package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	appconfig "github.com/Nabil201-ctrl/Healify-sub000/internal/config"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/secrets"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// LoadAWSConfig builds the AWS SDK config shared by every binary. With
// AWS_ENDPOINT_OVERRIDE set, queue, table, bucket, email and parameter traffic goes to
// LocalStack; Bedrock always uses the real endpoint.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				switch service {
				case sqs.ServiceID, dynamodb.ServiceID, s3.ServiceID, sesv2.ServiceID, ssm.ServiceID:
					return aws.Endpoint{
						URL:           endpoint,
						PartitionID:   "aws",
						SigningRegion: cfg.AWSRegion,
					}, nil
				default:
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				}
			},
		)
	}

	return awsCfg, nil
}

// ApplySecrets fills empty secrets from Parameter Store when
// SSM_PARAMETER_PREFIX is set.
func ApplySecrets(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) error {
	if cfg.SSMParameterPrefix == "" {
		return nil
	}
	return secrets.NewParamStore(ssm.NewFromConfig(awsCfg)).Apply(ctx, cfg, cfg.SSMParameterPrefix, logger)
}
